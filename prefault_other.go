//go:build !linux

package streamreduce

func prefaultRegion(data []byte) {}
