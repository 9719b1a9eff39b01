// Package update drives the extension update lifecycle.
//
// This package handles:
//   - Polling each tracked extension's update manifest (Checker)
//   - Downloading accepted updates and tracking installation (Coordinator)
//   - Mirroring the installed inventory into the store (Inventory)
//   - Building store update and install URLs
//
// All state lives in storage.Store. Read-modify-write cycles on the
// "extensions" key hold the extensions lock; network fetches and transfers
// never do.
//
// Example usage:
//
//	checker := update.NewChecker(store, host, fetcher, alarms)
//	summary, err := checker.CheckForUpdates(ctx, update.CheckOptions{Manual: true})
//	if err != nil {
//	    // the store could not be read or written
//	}
//	fmt.Println(summary.Updates, "updates available")
package update
