package internal

import (
	"crypto/rand"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
)

func SixCharUserID() rtcsignal.UserID {
	return rtcsignal.UserID(rand.Text()[:6])
}

// GenerateUniqueUserID draws ids until claim accepts one. claim should
// reserve the id atomically so two callers cannot end up with the same id.
func GenerateUniqueUserID(claim func(userId rtcsignal.UserID) bool) rtcsignal.UserID {
	id := SixCharUserID()
	for !claim(id) {
		id = SixCharUserID()
	}
	return id
}
