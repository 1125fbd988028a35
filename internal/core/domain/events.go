package domain

// EventKind enumerates the room event bus message kinds.
type EventKind int

const (
	EventQueueUpdate EventKind = iota
	EventCurrentItemUpdate
	EventSync
	EventRootUpdated
	EventFilePut
	EventHostMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQueueUpdate:
		return "queue_update"
	case EventCurrentItemUpdate:
		return "current_item_update"
	case EventSync:
		return "sync"
	case EventRootUpdated:
		return "root_updated"
	case EventFilePut:
		return "file_put"
	case EventHostMessage:
		return "host_message"
	default:
		return "unknown"
	}
}

// Event carries exactly one payload matching its kind. Using one tagged
// struct instead of string-keyed listener registries keeps dispatch typed.
type Event struct {
	Kind        EventKind
	Sync        *SyncMessage
	FilePut     *FilePutEvent
	CurrentItem *PlayingItem
	Root        *RootListing
	Raw         []byte
}

// FilePutEvent announces that a content ID became available in the room's
// relay store.
type FilePutEvent struct {
	Key ContentID `json:"key"`
}
