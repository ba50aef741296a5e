package crs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		code int
	}{
		{"EPSG:4326", 4326},
		{"epsg:3857", 3857},
		{"4269", 4269},
		{"+init=epsg:4326", 4326},
		{"urn:ogc:def:crs:EPSG::3857", 3857},
		{"EPSG:900913", 3857},
		{"EPSG:32633", 32633},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.code, c.Code)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "EPSG:abc", "EPSG:", "-5", "not a crs"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestParse_ProjString(t *testing.T) {
	c, err := Parse("+proj=utm +zone=33 +datum=WGS84")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Code)
	assert.Equal(t, "+proj=utm +zone=33 +datum=WGS84", c.String())
	assert.False(t, c.IsZero())
}

func TestEPSG_KnownWKT(t *testing.T) {
	c := EPSG(4326)
	assert.Equal(t, "WGS 84", c.Name)
	assert.NotEmpty(t, c.WKT)

	back, err := FromWKT(c.WKT)
	require.NoError(t, err)
	assert.Equal(t, 4326, back.Code)

	merc, err := FromWKT(EPSG(3857).WKT)
	require.NoError(t, err)
	assert.Equal(t, 3857, merc.Code, "outermost authority wins")
}

func TestFromWKT_ESRIName(t *testing.T) {
	prj := `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	c, err := FromWKT(prj)
	require.NoError(t, err)
	assert.Equal(t, 4326, c.Code)
	assert.Equal(t, prj, c.WKT)
}

func TestFromWKT_Unknown(t *testing.T) {
	lambert := `PROJCS["Indonesia Lambert Conformal Conic",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],PARAMETER["Central_Meridian",115.0],UNIT["Meter",1.0]]`
	c, err := FromWKT(lambert)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Code)
	assert.Equal(t, "Indonesia Lambert Conformal Conic", c.Name)
	assert.Equal(t, lambert, c.String())
}

func TestEqual(t *testing.T) {
	assert.True(t, EPSG(4326).Equal(CRS{Code: 4326}))
	assert.False(t, EPSG(4326).Equal(EPSG(3857)))
	assert.True(t, CRS{Raw: "+proj=longlat"}.Equal(CRS{Raw: "+proj=longlat"}))
	assert.True(t, CRS{}.IsZero())
	assert.Equal(t, "urn:ogc:def:crs:EPSG::4326", EPSG(4326).URN())
}

func TestPRJ(t *testing.T) {
	assert.Equal(t, EPSG(4326).WKT, EPSG(4326).PRJ())
	assert.Equal(t, wkt3857, CRS{Code: 3857}.PRJ())
	assert.Empty(t, CRS{}.PRJ())

	proj := CRS{Raw: "+proj=utm +zone=33 +datum=WGS84"}
	assert.Equal(t, proj.Raw, proj.PRJ())

	back, err := FromWKT(EPSG(32633).PRJ())
	require.NoError(t, err)
	assert.Equal(t, 32633, back.Code)
}

func TestIdentifier(t *testing.T) {
	tests := []CRS{
		EPSG(4326),
		EPSG(32633),
		{Raw: "+proj=utm +zone=33 +datum=WGS84"},
	}
	for _, c := range tests {
		back, err := Parse(c.Identifier())
		require.NoError(t, err, c.String())
		assert.True(t, c.Equal(back), "%s read back as %s", c, back)
	}
	assert.Empty(t, CRS{}.Identifier())
}
