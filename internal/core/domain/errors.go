package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomOwned         = errors.New("room already exists and is owned by someone else")
	ErrFileNotFound      = errors.New("file not found")
	ErrStreamerCancelled = errors.New("streamer cancelled")
	ErrWaitTimeout       = errors.New("timed out waiting for content")
	ErrNotHost           = errors.New("connection does not hold the host capability")
)
