package model

// Tables lists every persisted model in migration order.
func Tables() []any {
	return []any{
		&Token{},
		&WalletBalance{},
		&AccountNonce{},
		&Transaction{},
		&Swap{},
		&TransactionRule{},
		&Profile{},
		&OutboxEvent{},
	}
}
