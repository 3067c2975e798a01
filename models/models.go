package models

// All returns every entity in dependency order, for auto-migration.
func All() []interface{} {
	return []interface{}{
		&Department{},
		&Position{},
		&User{},
		&Shift{},
		&Schedule{},
		&LeaveRequest{},
		&Notification{},
		&DocumentCategory{},
		&Document{},
	}
}
