// Package config resolves the two configuration surfaces of deltaflow.
//
// ConnectionConfig holds what is needed to reach the S3-compatible object
// store backing a table: the insecure-transport flag, endpoint, region,
// credentials and bucket. It is read from the process environment by Resolve,
// validated in a single pass that reports every missing key at once, and
// then passed explicitly to the storage layer. Nothing below this package
// reads the environment.
//
// RunConfig holds the knobs of one workflow run (table prefix, source file,
// delimiter, merge clauses, logging, metrics and tracing). It is assembled by
// viper from defaults, an optional YAML file, DELTAFLOW_* environment
// variables and command-line flags, in increasing order of precedence.
//
// # Usage
//
//	conn, err := config.Resolve()
//	if err != nil {
//		// err is an *errors.Error with Code ConfigMissing naming every absent key
//	}
//	store, err := storage.NewS3Store(ctx, conn.ToParameterMap(), log)
package config
