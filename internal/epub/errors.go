package epub

import "errors"

// ErrMalformedContainer reports a missing or unparseable OCF container.
var ErrMalformedContainer = errors.New("malformed container")

// ErrUnsupportedPackage reports an OPF the reader cannot interpret.
var ErrUnsupportedPackage = errors.New("unsupported package")

// ErrAssetMissing reports a manifest item absent from the archive.
var ErrAssetMissing = errors.New("asset missing from archive")
