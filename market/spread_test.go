package market

import "testing"

func TestPercentSpreadQuote(t *testing.T) {
	s, err := NewPercentSpread(2)
	if err != nil {
		t.Fatal(err)
	}
	bid, ask := s.Quote(10000)
	if bid != 9900 || ask != 10100 {
		t.Fatalf("unexpected quote %d/%d", bid, ask)
	}
	// 0.5 向远离零的方向取整
	bid, ask = s.Quote(50)
	if bid != 50 || ask != 51 {
		t.Fatalf("unexpected rounded quote %d/%d", bid, ask)
	}
}

func TestPercentSpreadBracketsPrice(t *testing.T) {
	s, _ := NewPercentSpread(0.37)
	for _, p := range []int64{1, 7, 999, 6732145000000} {
		bid, ask := s.Quote(p)
		if bid > p || ask < p {
			t.Fatalf("quote %d/%d does not bracket %d", bid, ask, p)
		}
	}
}

func TestPercentSpreadSetPercent(t *testing.T) {
	s, _ := NewPercentSpread(0)
	if bid, ask := s.Quote(100); bid != 100 || ask != 100 {
		t.Fatalf("zero spread should quote at price, got %d/%d", bid, ask)
	}
	if err := s.SetPercent(10); err != nil {
		t.Fatal(err)
	}
	if bid, ask := s.Quote(100); bid != 95 || ask != 105 {
		t.Fatalf("unexpected quote %d/%d", bid, ask)
	}
	if err := s.SetPercent(-1); err == nil {
		t.Fatalf("expected error for negative percent")
	}
	if s.Percent() != 10 {
		t.Fatalf("rejected update must keep previous percent")
	}
}
