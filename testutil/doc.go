// Package testutil provides test doubles and fixtures for vol2mqtt tests.
//
// # Mocks
//
// MockLines replays scripted log lines and then ends the stream, standing in for
// the source process:
//
//	lines := testutil.NewMockLines(testutil.FrameLines...)
//	lines.End = &source.ExitError{Code: 1}
//
// MockPublisher records every reading it is given and can be made to fail after a
// number of publishes, or to report a dropped connection on its Lost channel:
//
//	pub := testutil.NewMockPublisher()
//	pub.FailAfter = 2
//	pub.DropConnection(errors.ErrConnectionLost)
//
// WaitForReadings polls a MockPublisher until enough readings have arrived.
//
// # Fixtures
//
// FrameLines, NoiseLines and MalformedLevelLines are log lines in the format
// printed by ffmpeg's ametadata filter. LevelLine and FrameLine build single lines.
//
// Integration tests that need a real broker use natsclient.NewTestClient or start a
// container with testcontainers-go and are guarded by the integration build tag.
package testutil
