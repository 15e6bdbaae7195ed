package upbeat

import "tranquil/src/lib/trust"

// These write straight to the sink without going through a logger.  They are
// for the last words of a halting kernel, when nothing fancier can be trusted.

func hexDigit(d byte) byte {
	d &= 0xF
	if d > 9 {
		return d + 0x37
	}
	return d + 0x30
}

func WriteString(s trust.Sink, str string) {
	for i := 0; i < len(str); i++ {
		if str[i] == '\n' {
			s.Putc('\r')
		}
		s.Putc(str[i])
	}
}

func WriteCR(s trust.Sink) {
	s.Putc('\r')
	s.Putc('\n')
}

func Hex32string(s trust.Sink, d uint32) {
	for rb := 28; rb >= 0; rb -= 4 {
		s.Putc(hexDigit(byte(d >> uint(rb))))
	}
	s.Putc(' ')
}

func Hex64string(s trust.Sink, d uint64) {
	for rb := 60; rb >= 0; rb -= 4 {
		s.Putc(hexDigit(byte(d >> uint(rb))))
	}
	s.Putc(' ')
}

// Dump writes data as 16 byte rows of hex plus printable ascii.  base is the
// address printed for the first row.
func Dump(s trust.Sink, base uint32, data []byte) {
	for a := 0; a < len(data); a += 16 {
		Hex32string(s, base+uint32(a))
		WriteString(s, ": ")
		for b := 0; b < 16; b++ {
			if a+b < len(data) {
				c := data[a+b]
				s.Putc(hexDigit(c >> 4))
				s.Putc(hexDigit(c))
			} else {
				s.Putc(' ')
				s.Putc(' ')
			}
			s.Putc(' ')
			if b%4 == 3 {
				s.Putc(' ')
			}
		}
		for b := 0; b < 16 && a+b < len(data); b++ {
			c := data[a+b]
			if c < 32 || c > 127 {
				s.Putc('.')
			} else {
				s.Putc(c)
			}
		}
		WriteCR(s)
	}
}
