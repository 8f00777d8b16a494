package healthmon

import "errors"

var ErrDeviceNotTracked = errors.New("device has no health record yet")
