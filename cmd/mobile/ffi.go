//go:build cgo

// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libwishwell.so (Android) / wishwell.framework (iOS)
package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// result converts a bridge result into a C string, recording err.
func result(s string, err error) *C.char {
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	return C.CString(s)
}

// status converts a bridge error into 0 on success and -1 on failure.
func status(err error) C.int {
	if err != nil {
		setLastError(err.Error())
		return -1
	}
	return 0
}

//export Init
// Init opens the core. configPath, dataDir and userID may be empty.
// Returns 0 on success, -1 on failure (see GetLastError).
func Init(configPath, dataDir, userID *C.char) C.int {
	return status(initCore(C.GoString(configPath), C.GoString(dataDir), C.GoString(userID)))
}

//export Cleanup
// Cleanup stops background work and closes the database.
func Cleanup() {
	cleanupCore()
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	return C.CString(getLastError())
}

//export WishPost
// WishPost posts a wish given as JSON, queueing it when offline.
// Returns JSON string that must be freed by the caller.
func WishPost(payloadJSON *C.char) *C.char {
	return result(wishPost(C.GoString(payloadJSON)))
}

//export QueueFlush
// QueueFlush delivers eligible queued wishes.
func QueueFlush() *C.char {
	return result(queueFlush())
}

//export QueueStatus
// QueueStatus returns the queue size and ages.
func QueueStatus() *C.char {
	return result(queueStatus())
}

//export QueueClear
// QueueClear drops every queued wish.
func QueueClear() C.int {
	return status(queueClear())
}

//export SetOnline
// SetOnline reports the platform's connectivity; non-zero means online.
func SetOnline(online C.int) C.int {
	return status(setOnline(online != 0))
}

//export EngagementRecord
// EngagementRecord records one event of kind for the session user.
func EngagementRecord(kind *C.char) *C.char {
	return result(engagementRecord(C.GoString(kind)))
}

//export EngagementStats
// EngagementStats returns the session user's engagement document.
func EngagementStats() *C.char {
	return result(engagementStats())
}

//export NextMilestone
// NextMilestone returns the next locked milestone of kind, or null.
func NextMilestone(kind *C.char) *C.char {
	return result(nextMilestone(C.GoString(kind)))
}

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
