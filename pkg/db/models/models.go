package models

// All lists every persisted model in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Address{},
		&Product{},
		&InventoryItem{},
		&CartItem{},
		&Order{},
		&OrderLineItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
