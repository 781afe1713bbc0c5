// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import "errors"

var (
	errAuthFailed        = errors.New("auth: credentials rejected")
	errUnauthorizedTopic = errors.New("auth: principal not authorized for topic")
)
