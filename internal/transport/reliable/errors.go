package reliable

import "midimesh/internal/errs"

var errShortFrame = errs.BadContext("reliable frame shorter than header")
