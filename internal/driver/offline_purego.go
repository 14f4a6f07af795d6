//go:build !cgo

package driver

import "os"

func init() {
	Register(KindOffline, openFileOffline)
}

func openFileOffline(opts Options) (Driver, error) {
	f, err := os.Open(opts.Source)
	if err != nil {
		return nil, err
	}
	d, err := newReaderDriver(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}
