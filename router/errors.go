package router

import "errors"

var errNoShell = errors.New("router: no vendor shell registered")
