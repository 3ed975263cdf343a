package queuenames

const (
	ChannelSync    = "channel_sync"
	BatchSync      = "batch_sync"
	RetentionPurge = "retention_purge"
)

// Priority is the order in which pending jobs are picked when more than one
// queue has work ready.
var Priority = []string{
	ChannelSync,
	BatchSync,
	RetentionPurge,
}
