package storage

// NewDatabaseStores wires the Postgres repositories and the ClickHouse raw store
func NewDatabaseStores(pg *PostgresDB, ch *ClickHouseDB) *Stores {
	return &Stores{
		Raw:       NewRawTransactionRepository(ch),
		Events:    NewEventRepository(pg),
		Positions: NewPositionRepository(pg),
		Overrides: NewOverrideRepository(pg),
		Syncs:     NewSyncStatusRepository(pg),
		Segments:  NewSegmentRepository(pg),
	}
}
