// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"fmt"

	"github.com/Fantom-foundation/Kiln/go/kiln"
)

// MissingAccountError is reported when an operation requires an account the
// backend does not know.
type MissingAccountError struct {
	Address kiln.Address
}

func (e *MissingAccountError) Error() string {
	return fmt.Sprintf("missing account %v", e.Address)
}
