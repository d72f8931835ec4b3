// Package shm provides typed scalars backed by memory that is shared between
// processes.
//
// A Region is a memfd mapped with MAP_SHARED. Writes through one mapping are
// visible through every other mapping of the same memfd immediately, without
// any message passing. Children do not inherit mappings across exec, so a
// Registry hands the memfds to children through exec.Cmd.ExtraFiles and the
// child maps them again with Attach.
//
// Regions must exist before the children that need them are started. A region
// created after a child was spawned is invisible to that child.
package shm
