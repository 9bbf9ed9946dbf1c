// This file is part of crisis-stream
//
// Copyright (C) 2020  BizFly Cloud
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
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

type printedEvent struct {
	Topic      string      `json:"topic" yaml:"topic"`
	ReceivedAt string      `json:"received_at" yaml:"received_at"`
	Payload    interface{} `json:"payload" yaml:"payload"`
}

// formatEvent renders e as one JSON line or one YAML document.
func formatEvent(format string, e broker.Event) ([]byte, error) {
	var payload interface{}
	if err := e.Unmarshal(&payload); err != nil {
		return nil, err
	}
	pe := printedEvent{
		Topic:      e.Topic,
		ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339),
		Payload:    payload,
	}

	switch format {
	case outputJSON:
		b, err := json.Marshal(pe)
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case outputYAML:
		b, err := yaml.Marshal(pe)
		if err != nil {
			return nil, err
		}
		return append([]byte("---\n"), b...), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
