package main

import (
	"github.com/coopfed/fednet/internal/cid"
)

func parseCidParam(s string) (cid.Cid, error) {
	return cid.Parse(s)
}
