//go:build windows

package security

// Windows has no O_NOFOLLOW; the Lstat check in Validate is the only guard.
const noFollowFlag = 0
