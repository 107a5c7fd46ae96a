package internal

import (
	"regexp"
)

// MIRIAD item names are short lowercase tokens: they double as file
// names inside the dataset directory and as 15-byte name fields in the
// packed header file.
const pattern = `^[a-z][a-z0-9_+-]{0,7}$`

var re *regexp.Regexp

func init() {
	var err error
	re, err = regexp.Compile(pattern)
	if err != nil {
		panic(err)
	}
}

// IsValidItemName returns true if name is a valid MIRIAD item name.
func IsValidItemName(name string) bool {
	return re.MatchString(name)
}
