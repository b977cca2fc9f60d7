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

package bangcoast

import (
	"autotpi/internal/store"
	"autotpi/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const dataVersion = 1

type envelope struct {
	Version int          `json:"version"`
	Data    LearningData `json:"data"`
}

func DataKey(zone string) string {
	return "bangcoast/" + zone
}

// Load returns the saved learning data of a zone. Nothing saved yet, an
// unreadable record or a version it does not know yields the zero value,
// which New replaces with the configured initial inertia.
func Load(ctx context.Context, st store.Store, zone string) (LearningData, error) {
	raw, err := st.Get(ctx, DataKey(zone))
	if errors.Is(err, store.ErrNotFound) {
		return LearningData{}, nil
	}
	if err != nil {
		return LearningData{}, fmt.Errorf("load bang-coast data %s: %w", zone, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.New("BangCoast").With(zone).Warn("discarding saved data: %v", err)
		return LearningData{}, nil
	}
	if env.Version != dataVersion {
		return LearningData{}, nil
	}
	return env.Data, nil
}

func Save(ctx context.Context, st store.Store, zone string, d LearningData) error {
	raw, err := json.Marshal(envelope{Version: dataVersion, Data: d})
	if err != nil {
		return err
	}
	if err := st.Put(ctx, DataKey(zone), raw); err != nil {
		return fmt.Errorf("save bang-coast data %s: %w", zone, err)
	}
	return nil
}
