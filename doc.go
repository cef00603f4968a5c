// Package deltaflow provisions a versioned table in S3-compatible object
// storage and upserts a delimited dataset into it with all-or-nothing commits.
//
// # Workflow
//
// One run of the deltaflow command performs, strictly in order:
//
//  1. resolve-config: read ALLOW_HTTP, MINIO_URL, MINIO_STORAGE_REGION,
//     MINIO_LOGIN, MINIO_PASSWORD and MINIO_SOURCE_BUCKET. Every missing key
//     is reported in a single error.
//  2. create-table: create a table with the columns __id, __createdat and
//     __updatedat at s3://<bucket>/<prefix>/<uuid>. A table already at the
//     location is an error.
//  3. open-table: re-open the table at its latest version.
//  4. load-source: read the ;-delimited source file into Arrow records.
//  5. merge: update matched rows and insert unmatched ones by __id, as one
//     new table version.
//
// A failure stops the run and is reported as step "<name>" failed: <cause>.
//
// # Table format
//
// Tables follow the Delta Lake layout: a _delta_log directory of JSON-lines
// commit files named by zero-padded version, and Parquet data files beside
// it. A version is committed by writing its log file with put-if-absent
// semantics, so of two writers racing for the same version exactly one
// wins and the other gets a concurrent modification error.
//
// # Packages
//
//	pkg/config         connection and run configuration
//	pkg/schema         table schemas and their Arrow and JSON forms
//	pkg/storage        object store interface, S3 and in-memory stores
//	pkg/table          commit log, snapshots, create/open/commit
//	pkg/source         CSV loading and preview
//	pkg/merge          merge builder and copy-on-write execution
//	pkg/formats/columnar  row/Arrow/Parquet conversion
//	internal/pipeline  the workflow
//	cmd/deltaflow      the CLI
//
// # Quick start
//
//	export ALLOW_HTTP=true MINIO_URL=http://localhost:9000 \
//	    MINIO_STORAGE_REGION=us-east-1 MINIO_LOGIN=minio \
//	    MINIO_PASSWORD=minio123 MINIO_SOURCE_BUCKET=lake
//	go run ./cmd/deltaflow run --source minimal.csv
//	go run ./cmd/deltaflow inspect s3://lake/minimal_example/<uuid>
package deltaflow
