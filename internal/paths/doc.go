// Provides platform-appropriate paths for keg.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The program name "keg" is used as the subdirectory under each
// base path. Every value here is a default; configuration may override the
// prefix, recipe directories, and socket path.
package paths
