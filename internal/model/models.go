package model

// All lists every table the service needs, in migration order.
func All() []any {
	return []any{
		&Competition{},
		&Category{},
		&Pairing{},
		&PairingSlot{},
		&Ticket{},
		&EventLogEntry{},
		&OutboxEvent{},
		&CronJobLock{},
		&NotificationDelivery{},
	}
}
