// Package elements provides the stock elements: test sources, a URI
// source with sometimes pads, queue, tee, caps-filter, pass-through
// converters and the fake, auto and frame sinks. Register adds their
// factories to a pipeline.Registry.
//
//	reg := pipeline.NewRegistry(nil)
//	if err := elements.Register(reg); err != nil {
//		return err
//	}
//	src, _ := reg.Make("test-source", "")
//	sink, _ := reg.Make("auto-sink", "")
package elements
