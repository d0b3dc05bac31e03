package series

import "math"

// Gaze direction channels of the raw tracker output and the derived angles.
const (
	GazeDirectionX = "gaze_direction_x"
	GazeDirectionY = "gaze_direction_y"
	GazeDirectionZ = "gaze_direction_z"
	GazeAzimuth    = "gaze+azimuth+"
	GazeElevation  = "gaze+elevation+"
)

// AddSphericalCoordinates derives gaze azimuth (from the z-axis towards the
// x-axis) and elevation (from the xz plane upwards) in radians from the gaze
// direction vector. It is a no-op when any component is missing.
func AddSphericalCoordinates(s *Series) error {
	x, y, z := s.Column(GazeDirectionX), s.Column(GazeDirectionY), s.Column(GazeDirectionZ)
	if x == nil || y == nil || z == nil {
		return nil
	}
	azimuth := make([]float64, s.Len())
	elevation := make([]float64, s.Len())
	for i := range azimuth {
		azimuth[i] = math.Atan2(x[i], z[i])
		elevation[i] = math.Atan2(y[i], math.Sqrt(x[i]*x[i]+z[i]*z[i]))
	}
	if err := s.Set(GazeAzimuth, azimuth); err != nil {
		return err
	}
	return s.Set(GazeElevation, elevation)
}
