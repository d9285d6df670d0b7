// Package dataset serves SQL queries as exports.
//
// A Catalog holds the datasets configured under "datasets:" and hands out
// Exporter values for them. Each Exporter runs the dataset's SELECT through
// database/sql and streams the result rows into the export engine, optionally
// paging the query with LIMIT/OFFSET. Both SQLite drivers are available:
// "sqlite3" (github.com/mattn/go-sqlite3) and "sqlite" (modernc.org/sqlite).
//
// Exporters serialise to {"dataset": "<name>"} and are registered under the
// key "dataset", so queued dataset exports are rebuilt from the catalog on the
// worker that runs them.
//
//	catalog, err := dataset.NewCatalog(cfg.Datasets)
//	if err != nil {
//	    return err
//	}
//	defer catalog.Close()
//	catalog.Register(registry)
//
//	e, err := catalog.Exporter("users")
//	resp, err := dispatcher.Download(ctx, e, dispatch.DownloadOptions{})
package dataset
