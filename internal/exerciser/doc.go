// Package exerciser drives a local routemesh-server cluster through
// random faults and checks the route mesh after every step.
//
// Each step draws from a seeded generator: restart a node, pause it with
// SIGSTOP, resume it with SIGCONT, or only observe. After the step every
// running node's /routez must show no route to itself and at most one
// established route per peer. When all steps are done the paused nodes
// are resumed and the cluster must converge to a full mesh.
//
// The same seed replays the same fault sequence.
package exerciser
