// Package builtin registers every built-in detector strategy with the
// detectors factory. Import it for its side effects:
//
//	import _ "github.com/hed1ad/vitalguard/pkg/detectors/builtin"
package builtin

import (
	_ "github.com/hed1ad/vitalguard/pkg/detectors/ensemble"
	_ "github.com/hed1ad/vitalguard/pkg/detectors/iforest"
	_ "github.com/hed1ad/vitalguard/pkg/detectors/ocsvm"
	_ "github.com/hed1ad/vitalguard/pkg/detectors/statistical"
)
