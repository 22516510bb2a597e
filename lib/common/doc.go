// Package common holds the ambient infrastructure shared by all levelkv
// components: the logger factory plugged into the dragonboat logger registry
// and helpers to render configuration structs.
package common
