// Package level defines the data layout of the level hash table: the fixed
// width key and value types, the serialized bucket format shared by the host
// and the accelerator, the bucket id address space of the two table levels
// and the two-hash scheme that maps a key onto its four candidate buckets.
//
// Everything in this package is pure. Both sides of the remote memory
// transport compute bucket locations with the functions defined here, so a
// change to the layout must be applied to host and accelerator alike.
package level
