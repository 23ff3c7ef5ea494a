//go:build !windows

package security

import "syscall"

const noFollowFlag = syscall.O_NOFOLLOW
