package domain

// MessageBus routes inbound events from adapters to the dispatcher.
type MessageBus interface {
	Publish(msg Inbound)
	Subscribe() <-chan Inbound
	Close()
}
