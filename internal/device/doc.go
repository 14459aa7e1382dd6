// Package device keeps the list of microcontroller devices the bridge has
// seen, and the history of firmware updates, in SQLite.
//
// The Registry is an arduino.EventSink: discovered devices are upserted
// into arduino_devices and flash jobs into arduino_flash_jobs. Writes are
// queued onto a background goroutine so the driver loop never waits on the
// database.
//
// It is also the driver's PersistedSource: when the host comes up, every
// stored GUID is registered again so writes to those devices succeed
// before they report in.
//
//	repo := device.NewSQLiteRepository(db.DB)
//	reg := device.NewRegistry(repo, device.NewSQLiteFlashHistoryRepository(db.DB))
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	reg.Start()
//	defer reg.Stop()
package device
