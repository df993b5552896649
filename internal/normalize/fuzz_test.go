package normalize

import "testing"

func FuzzUser(f *testing.F) {
	f.Add("marola")
	f.Add("ÑAndÚ")
	f.Fuzz(func(t *testing.T, s string) {
		User(s)
	})
}

func FuzzDomain(f *testing.F) {
	f.Add("example.com")
	f.Add("ñeque")
	f.Fuzz(func(t *testing.T, s string) {
		Domain(s)
	})
}

func FuzzAddr(f *testing.F) {
	f.Add("marola@example.com")
	f.Fuzz(func(t *testing.T, s string) {
		Addr(s)
	})
}

func FuzzDomainToUnicode(f *testing.F) {
	f.Add("xn--eque-6ka.com")
	f.Fuzz(func(t *testing.T, s string) {
		DomainToUnicode(s)
	})
}
