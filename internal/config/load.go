// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	nerrors "einat.dev/einatd/internal/errors"
)

// LoadFile parses path as an einatd HCL policy file and resolves it
// into a Policy.
func LoadFile(path string) (*Policy, error) {
	var raw Raw
	if err := hclsimple.DecodeFile(path, nil, &raw); err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindConfigValidation, "parse policy file")
	}
	return resolve(raw)
}

// LoadBytes parses data (with filename used only for diagnostics) as
// an einatd HCL policy body.
func LoadBytes(filename string, data []byte) (*Policy, error) {
	var raw Raw
	if err := hclsimple.Decode(filename, data, nil, &raw); err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindConfigValidation, "parse policy body")
	}
	return resolve(raw)
}
