// Package output renders routemesh-cli and routemesh-exercise output.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: reflection based tables; fields tagged `table:"wide"` only
//     show with --wide, `table:"-"` never
//   - json.go, yaml.go: machine-readable output
//   - spinner.go, progress.go: terminal feedback for long operations
package output
