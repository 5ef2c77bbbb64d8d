// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

//go:build arm || arm64 || windows

package log

import "os"

// redirectStderr is not supported on this platform
func redirectStderr(_ *os.File) error {
	return nil
}
