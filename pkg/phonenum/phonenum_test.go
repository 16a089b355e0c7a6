package phonenum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := Classify("+44123400067")
	require.NotNil(t, c)
	require.Equal(t, "44", c.CountryCode)
	require.Equal(t, "123400067", c.National)
	require.Equal(t, "UK", c.ISO)
	require.Equal(t, "United Kingdom", c.CountryName)

	c = Classify("14512345670")
	require.NotNil(t, c)
	require.Equal(t, "1", c.CountryCode)
	require.Equal(t, "4512345670", c.National)
	require.Equal(t, "US", c.ISO)

	c = Classify("+12122345678")
	require.NotNil(t, c)
	require.Equal(t, "1", c.CountryCode)
	require.Equal(t, "2122345678", c.National)
	require.Equal(t, "US", c.ISO)

	// could be a US number, but is actually outlying territories
	c = Classify("+16642223333")
	require.NotNil(t, c)
	require.Equal(t, "1664", c.CountryCode)
	require.Equal(t, "2223333", c.National)
	require.Equal(t, "MS", c.ISO)

	c = Classify("0115527642223333")
	require.NotNil(t, c)
	require.Equal(t, "55", c.CountryCode)
	require.Equal(t, "27642223333", c.National)
	require.Equal(t, "BR", c.ISO)
}

func TestClassifyFormatted(t *testing.T) {
	c := Classify("18763988463")
	require.NotNil(t, c)
	require.Equal(t, "JM", c.ISO)

	c = Classify("1 (503) 645-9751")
	require.NotNil(t, c)
	require.Equal(t, "1", c.CountryCode)
	require.Equal(t, "5036459751", c.National)
	require.Equal(t, "US", c.ISO)
}

func TestClassifyRejects(t *testing.T) {
	require.Nil(t, Classify(""))
	require.Nil(t, Classify("anonymous"))
	require.Nil(t, Classify("0533-999"))
}

func TestLooksLikeValidPSTN(t *testing.T) {
	require.True(t, LooksLikeValidPSTN("+44123400067"))
	require.True(t, LooksLikeValidPSTN("01144123400067"))
	require.True(t, LooksLikeValidPSTN("1 (503) 645-9751"))

	require.False(t, LooksLikeValidPSTN("0113334445"))
	require.False(t, LooksLikeValidPSTN("anonymous"))
	require.False(t, LooksLikeValidPSTN("0533-999"))
}

func TestDomesticInternationalExclusive(t *testing.T) {
	require.True(t, IsInternational("00528182436554"))
	require.False(t, IsDomestic("00528182436554"))

	require.True(t, IsDomestic("+15032224444"))
	require.False(t, IsInternational("+15032224444"))

	require.False(t, IsDomestic(""))
	require.False(t, IsInternational(""))
}
