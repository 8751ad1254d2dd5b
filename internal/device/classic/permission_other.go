//go:build !linux

package classic

import "context"

// platformPermission grants access; the OS prompts on first use of the serial node.
type platformPermission struct{}

func (platformPermission) Request(context.Context) error { return nil }
