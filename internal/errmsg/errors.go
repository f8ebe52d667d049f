package errmsg

import "errors"

var ErrNotRegularFile = errors.New("not a regular file")
var ErrFileTooLarge = errors.New("file too large")
var ErrRootInaccessible = errors.New("scan root inaccessible")
var ErrNoDate = errors.New("no date found")
var ErrPublishFailed = errors.New("publish failed")
var ErrAlreadyScanning = errors.New("scan already in progress")
