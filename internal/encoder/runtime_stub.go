//go:build !govips || !cgo

package encoder

func Startup() error {
	return nil
}

func Shutdown() {}

func Backend() string { return "std" }

func platformEncoders() []Encoder {
	return []Encoder{&WebPEncoder{}}
}
