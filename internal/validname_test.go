package internal

import "testing"

func TestGood(t *testing.T) {
	var goodStrings = []string{
		"a",
		"image",
		"naxis1",
		"visdata",
		"vartable",
		"obstype",
		"n-axis",
	}
	for i := range goodStrings {
		if !IsValidItemName(goodStrings[i]) {
			t.Error("name should be good", goodStrings[i])
			return
		}
	}
}

func TestBad(t *testing.T) {
	var badStrings = []string{
		"",
		"_",
		"9lives",
		"Header",
		"no/good",
		"toolongname",
		"sp ace",
		"\x08",
	}
	for i := range badStrings {
		if IsValidItemName(badStrings[i]) {
			t.Error("name should be bad", badStrings[i])
			return
		}
	}
}
