// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import "github.com/sirupsen/logrus"

var pkgLog = logrus.WithField("component", "blocklog")

// blocklogLogger returns the package-level logger used by maintenance
// tools that operate outside of any single LogStore instance.
func blocklogLogger() *logrus.Entry { return pkgLog }
