// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package main

import (
	hicrep "github.com/hicrep/hicrep-go"
)

func main() {
	hicrep.Main()
}
