// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"encoding/json"

	"github.com/dessentialist/rowforge/internal/model"
)

func parseOptions(data []byte) (model.Options, error) {
	var opts model.Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return model.Options{}, err
	}
	return opts, nil
}
