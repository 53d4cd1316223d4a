// Package main provides routemesh-exercise, a fault driver for a local
// routemesh-server cluster.
//
//	routemesh-exercise --path ./bin/routemesh-server --seed 7 --steps 2000
//
// A failing run prints the seed; rerunning with it replays the same faults.
package main
