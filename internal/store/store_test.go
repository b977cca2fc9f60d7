// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "learning/office")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "learning/office", []byte(`{"version":3}`)))
	got, err := s.Get(ctx, "learning/office")
	require.NoError(t, err)
	assert.Equal(t, `{"version":3}`, string(got))

	require.NoError(t, s.Put(ctx, "learning/office", []byte(`{"version":4}`)))
	got, err = s.Get(ctx, "learning/office")
	require.NoError(t, err)
	assert.Equal(t, `{"version":4}`, string(got))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreFailPuts(t *testing.T) {
	m := NewMemory()
	m.FailPuts = true
	assert.Error(t, m.Put(context.Background(), "k", []byte("v")))
	assert.Equal(t, 0, m.Puts())
}

func TestFileStore(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "bangcoast/office", []byte("abc")))

	s2, err := NewFile(dir)
	require.NoError(t, err)
	got, err := s2.Get(context.Background(), "bangcoast/office")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "learning/den", []byte("x")))
	require.NoError(t, s.Close())

	s2, err := OpenBadger(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(context.Background(), "learning/den")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("sqlite", t.TempDir())
	assert.Error(t, err)
}
