package mention

import (
	"reflect"
	"testing"
)

const domain = "rezilienthealth.com"

func TestExtractBareUsername(t *testing.T) {
	got := Extract("please review @alice before noon", domain)
	want := []string{"alice@rezilienthealth.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %v, want %v", got, want)
	}
}

func TestExtractFullAddress(t *testing.T) {
	got := Extract("ping @alice@dynamicsurgical.com and @bob", domain)
	want := []string{"alice@dynamicsurgical.com", "bob@rezilienthealth.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %v, want %v", got, want)
	}
}

func TestExtractDedupesPreservingOrder(t *testing.T) {
	got := Extract("@bob then @alice then @bob again", domain)
	want := []string{"bob@rezilienthealth.com", "alice@rezilienthealth.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %v, want %v", got, want)
	}
}

func TestExtractLowercasesAndDedupesCaseInsensitively(t *testing.T) {
	got := Extract("cc @Alice and @alice and @Bob@Dynamicsurgical.COM", domain)
	want := []string{"alice@rezilienthealth.com", "bob@dynamicsurgical.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %v, want %v", got, want)
	}
}

func TestExtractEmptyAndNoMentions(t *testing.T) {
	if got := Extract("", domain); got != nil {
		t.Errorf("Extract(\"\") = %v", got)
	}
	if got := Extract("no mentions here", domain); got != nil {
		t.Errorf("Extract = %v, want none", got)
	}
}

func TestExtractPunctuationBoundary(t *testing.T) {
	got := Extract("thanks @carol.jones! and @dan_v, bye", domain)
	want := []string{"carol.jones@rezilienthealth.com", "dan_v@rezilienthealth.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract = %v, want %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  Alice@Rezilienthealth.COM "); got != "alice@rezilienthealth.com" {
		t.Errorf("Normalize = %q", got)
	}
}
